package sessionservice

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasJoinedParsesProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "alice", r.URL.Query().Get("username"))
		require.Equal(t, "somehash", r.URL.Query().Get("serverId"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"3e81c0dd10f14e70b7f3c4f9e38d3eef","name":"alice","properties":[{"name":"textures","value":"abc","signature":"sig"}]}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	profile, err := c.HasJoined(context.Background(), "alice", "somehash")
	require.NoError(t, err)

	require.Equal(t, "alice", profile.Name)
	require.Equal(t, "3e81c0dd-10f1-4e70-b7f3-c4f9e38d3eef", profile.ID.String())
	require.Len(t, profile.Properties, 1)
	require.Equal(t, "textures", profile.Properties[0].Name)
	require.Equal(t, "sig", profile.Properties[0].Signature)
}

func TestHasJoinedRejectsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.HasJoined(context.Background(), "ghost", "hash")
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestHasJoinedRejectsMalformedUUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"not-a-uuid","name":"alice"}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.HasJoined(context.Background(), "alice", "hash")
	require.Error(t, err)
}
