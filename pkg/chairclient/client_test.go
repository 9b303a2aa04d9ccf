package chairclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]interface{}{"success": status < 300, "message": message}
	if data != nil {
		payload["data"] = data
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func TestClientSignCoverLetter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/department-chair/cover-letters/CL-1/sign", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		writeEnvelope(w, http.StatusOK, "Cover letter signed successfully and forwarded to Faculty Secretary!", map[string]interface{}{
			"entry_id":                "CL-1",
			"stage":                   "PENDING_FACULTY_SECRETARY",
			"department_chair_signed": true,
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL + "/", Token: "token-1"})
	require.NoError(t, err)

	result, err := client.SignCoverLetter(t.Context(), "CL-1")
	require.NoError(t, err)
	require.Equal(t, "Cover letter signed successfully and forwarded to Faculty Secretary!", result.Message)
	require.Equal(t, "PENDING_FACULTY_SECRETARY", result.CoverLetter.Stage)
	require.True(t, result.CoverLetter.DepartmentChairSigned)
}

func TestClientMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusConflict, ErrInvalidTransition},
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, tc.status, "api says no", nil)
		}))

		client, err := New(Config{BaseURL: server.URL})
		require.NoError(t, err)

		_, err = client.SignCoverLetter(t.Context(), "CL-1")
		require.ErrorIs(t, err, tc.kind, "status %d", tc.status)
		require.Equal(t, "api says no", err.Error())

		server.Close()
	}
}

func TestClientBadRequestIsNotClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, "entry id is required", nil)
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.SignCoverLetter(t.Context(), "CL-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTransient)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClientUnreachableServerIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := New(Config{BaseURL: url})
	require.NoError(t, err)

	_, err = client.SignCoverLetter(t.Context(), "CL-1")
	require.ErrorIs(t, err, ErrTransient)
}

func TestClientListQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v2/department-chair/cover-letters", r.URL.Path)
		writeEnvelope(w, http.StatusOK, "cover letter queue", []map[string]interface{}{
			{"entry_id": "CL-1", "stage": "PENDING_DEPARTMENT_CHAIR"},
			{"entry_id": "CL-2", "stage": "PENDING_DEPARTMENT_CHAIR"},
		})
	}))
	defer server.Close()

	client, err := New(Config{BaseURL: server.URL})
	require.NoError(t, err)

	letters, err := client.ListQueue(t.Context())
	require.NoError(t, err)
	require.Len(t, letters, 2)
	require.Equal(t, "CL-2", letters[1].EntryID)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost"})
	require.Error(t, err)
}
