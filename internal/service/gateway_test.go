package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timmy/cattube/internal/domain"
	"github.com/timmy/cattube/internal/signature"
)

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func newTwelveLabsServer(t *testing.T, handler http.HandlerFunc) *TwelveLabsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTwelveLabsClient(&TwelveLabsConfig{
		APIKey:        "key",
		BaseURL:       srv.URL,
		IndexID:       "idx",
		SearchOptions: []string{"visual", "conversation"},
	})
}

func TestTwelveLabsClientTasks(t *testing.T) {
	ctx := context.Background()
	client := newTwelveLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "key", r.Header.Get("x-api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tasks":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			require.Equal(t, "idx", r.FormValue("index_id"))
			require.Equal(t, "https://media/v.mp4", r.FormValue("video_url"))
			require.Equal(t, "true", r.FormValue("disable_video_stream"))
			writeJSON(w, `{"_id":"t1"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/t1":
			writeJSON(w, `{"_id":"t1","status":"Ready","video_id":"v1"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"resource_not_exists","message":"no such task"}`))
		}
	})

	id, err := client.CreateTask(ctx, "https://media/v.mp4")
	require.NoError(t, err)
	require.Equal(t, "t1", id)

	task, err := client.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, &IndexTask{ID: "t1", Status: "ready", VideoID: "v1"}, task)

	_, err = client.GetTask(ctx, "t2")
	require.ErrorIs(t, err, ErrIndexNotFound)
	require.False(t, IsRetryable(err))
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, "resource_not_exists: no such task", gwErr.Message)
}

func TestTwelveLabsClientArtifactsAndSearch(t *testing.T) {
	ctx := context.Background()
	client := newTwelveLabsServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/indexes/idx/videos/v1/transcription":
			writeJSON(w, `{"data":[{"start":0,"end":2,"value":"meow"}]}`)
		case "/indexes/idx/videos/v1/logo":
			writeJSON(w, `{"data":null}`)
		case "/search":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "video", body["group_by"])
			require.Equal(t, "medium", body["threshold"])
			require.Equal(t, []interface{}{"visual", "conversation"}, body["search_options"])
			writeJSON(w, `{"data":[{"id":"v1","clips":[{"start":1,"end":3,"score":83.2,"confidence":"high"}]}],"page_info":{"next_page_token":"tok"}}`)
		case "/search/tok":
			writeJSON(w, `{"data":[{"id":"v2","clips":[]}],"page_info":{}}`)
		case "/indexes/idx/videos/v9":
			require.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})

	data, err := client.Artifact(ctx, domain.ArtifactTranscription, "v1")
	require.NoError(t, err)
	require.JSONEq(t, `[{"start":0,"end":2,"value":"meow"}]`, string(data))

	data, err = client.Artifact(ctx, domain.ArtifactLogo, "v1")
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))

	_, err = client.Artifact(ctx, domain.ArtifactKind("subtitles"), "v1")
	require.ErrorIs(t, err, ErrUnknownArtifact)

	page, err := client.Search(ctx, "cat", "")
	require.NoError(t, err)
	require.Equal(t, "tok", page.NextPageToken)
	require.Equal(t, "v1", page.Groups[0].VideoID)
	require.Equal(t, 83.2, page.Groups[0].Clips[0].Score)

	page, err = client.Search(ctx, "cat", "tok")
	require.NoError(t, err)
	require.Empty(t, page.NextPageToken)
	require.Equal(t, "v2", page.Groups[0].VideoID)

	require.ErrorIs(t, client.DeleteVideo(ctx, "v9"), ErrIndexNotFound)

	err = client.CheckIndex(ctx)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestTwelveLabsFetchOmitsAPIKey(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("x-api-key"))
		w.Write([]byte("jpeg"))
	}))
	defer cdn.Close()

	client := NewTwelveLabsClient(&TwelveLabsConfig{APIKey: "key", BaseURL: "http://unused", IndexID: "idx"})
	body, err := client.Fetch(context.Background(), cdn.URL+"/thumb.jpg")
	require.NoError(t, err)
	require.Equal(t, "jpeg", string(body))
}

func TestTransloaditClientGetAssembly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/assemblies/a1", r.URL.Path)
		params := r.URL.Query().Get("params")
		require.True(t, signature.Verify("secret", r.URL.Query().Get("signature"), params))
		writeJSON(w, `{"ok":"ASSEMBLY_COMPLETED","assembly_id":"a1","results":{"video":[{"name":"cat.mp4","ssl_url":"https://x/cat.mp4","size":10}]}}`)
	}))
	defer srv.Close()

	client := NewTransloaditClient(&TransloaditConfig{Key: "key", Secret: "secret", BaseURL: srv.URL})
	a, err := client.GetAssembly(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, a.Finished())
	require.True(t, a.Succeeded())
	key, err := a.OriginalKey("video/")
	require.NoError(t, err)
	require.Equal(t, "video/a1/cat.mp4", key)
}

func TestAssemblyFinished(t *testing.T) {
	tests := []struct {
		name     string
		assembly Assembly
		finished bool
	}{
		{"completed", Assembly{OK: AssemblyCompleted}, true},
		{"canceled", Assembly{OK: AssemblyCanceled}, true},
		{"aborted", Assembly{OK: RequestAborted}, true},
		{"executing", Assembly{OK: "ASSEMBLY_EXECUTING"}, false},
		{"errored", Assembly{Error: "INTERNAL_COMMAND_ERROR"}, true},
		{"rate limited", Assembly{Error: errRateLimited}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.finished, tt.assembly.Finished())
		})
	}
}

func TestParseAssembly(t *testing.T) {
	_, err := ParseAssembly(`{"ok":"ASSEMBLY_COMPLETED"}`)
	require.Error(t, err)
	_, err = ParseAssembly(`not json`)
	require.Error(t, err)

	a, err := ParseAssembly(`{"ok":"ASSEMBLY_COMPLETED","assembly_id":"a1","results":{}}`)
	require.NoError(t, err)
	_, err = a.OriginalKey("video/")
	require.Error(t, err)
}
