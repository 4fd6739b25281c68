package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T, routes func(r *mux.Router)) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func TestClientEndpoints(t *testing.T) {
	var gotAuth, gotLimit string
	var gotSend SendMessageRequest
	marked := false

	srv := newAPIServer(t, func(r *mux.Router) {
		r.HandleFunc("/users/{user_id}/conversations", func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"conversations": []Conversation{{ConversationID: "c1", OtherUserID: "u2", LastMessage: "hi", UnreadCount: 2}},
			})
		}).Methods(http.MethodGet)

		r.HandleFunc("/users/{user_id}/conversations/{cid}/messages", func(w http.ResponseWriter, r *http.Request) {
			gotLimit = r.URL.Query().Get("limit")
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"messages": []Message{{ID: "m1", ConversationID: mux.Vars(r)["cid"], Content: "hi"}},
			})
		}).Methods(http.MethodGet)

		r.HandleFunc("/users/{user_id}/messages", func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotSend)
			writeJSON(w, http.StatusOK, Message{ID: "m2", SenderID: mux.Vars(r)["user_id"], ReceiverID: gotSend.ReceiverID, Content: gotSend.Content})
		}).Methods(http.MethodPost)

		r.HandleFunc("/users/{user_id}/conversations/{cid}/read", func(w http.ResponseWriter, r *http.Request) {
			marked = true
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		}).Methods(http.MethodPost)

		r.HandleFunc("/users/{user_id}/unread", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]int64{"unread_count": 7})
		}).Methods(http.MethodGet)
	})

	ctx := context.Background()
	client := NewClient(srv.URL+"/", StaticToken("tok"), time.Second)

	convs, err := client.Conversations(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ConversationID)
	assert.Equal(t, "Bearer tok", gotAuth)

	msgs, err := client.Messages(ctx, "u1", "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].ConversationID)
	assert.Equal(t, "50", gotLimit)

	sent, err := client.SendMessage(ctx, "u1", SendMessageRequest{ReceiverID: "u2", Content: "yo"})
	require.NoError(t, err)
	assert.Equal(t, "u1", sent.SenderID)
	assert.Equal(t, SendMessageRequest{ReceiverID: "u2", Content: "yo"}, gotSend)

	require.NoError(t, client.MarkRead(ctx, "u1", "c1"))
	assert.True(t, marked)

	n, err := client.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestClientErrors(t *testing.T) {
	srv := newAPIServer(t, func(r *mux.Router) {
		r.HandleFunc("/users/{user_id}/conversations", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Token does not match user"})
		})
		r.HandleFunc("/users/{user_id}/unread", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
	})

	ctx := context.Background()
	client := NewClient(srv.URL, StaticToken("tok"), time.Second)

	_, err := client.Conversations(ctx, "u1")
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusForbidden, reqErr.StatusCode)
	assert.Equal(t, "Token does not match user", reqErr.Error())

	_, err = client.UnreadCount(ctx, "u1")
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "Failed to fetch unread count", reqErr.Error())

	// a missing credential fails before any request
	_, err = NewClient(srv.URL, StaticToken(""), time.Second).Conversations(ctx, "u1")
	require.True(t, errors.As(err, &reqErr))
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, "Failed to fetch conversations", reqErr.Error())
}

func TestUsersClientPeer(t *testing.T) {
	srv := newAPIServer(t, func(r *mux.Router) {
		r.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			if mux.Vars(r)["id"] != "u2" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
				return
			}
			writeJSON(w, http.StatusOK, Peer{ID: "u2", FirstName: "Tom", LastName: "Therapist", Role: "therapist"})
		})
	})

	users := NewUsersClient(srv.URL, nil, time.Second)

	peer, err := users.Peer(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "Tom Therapist", peer.DisplayName())

	_, err = users.Peer(context.Background(), "ghost")
	assert.EqualError(t, err, "User not found")
}
