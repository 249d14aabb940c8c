package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuecangming/folder-copy/internal/common/errors"
	"github.com/xuecangming/folder-copy/internal/common/types"
	"github.com/xuecangming/folder-copy/internal/core/logger"
	"github.com/xuecangming/folder-copy/internal/core/retry"
)

type graphFake struct {
	mux        *http.ServeMux
	server     *httptest.Server
	tokenCalls atomic.Int32
	copyCalls  atomic.Int32
}

func newGraphFake(t *testing.T) *graphFake {
	f := &graphFake{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "tok", "expires_in": 3600})
	})
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *graphFake) client() *Client {
	return NewClient(Options{
		GraphURL: f.server.URL,
		LoginURL: f.server.URL,
		Timeout:  5 * time.Second,
		Retry:    &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Logger:   logger.Nop(),
	})
}

func testStorage() *types.Storage {
	return &types.Storage{
		ID: 1, Name: "od", Provider: types.ProviderOneDrive,
		DriveID: "drive-1", TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "secret",
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestCopyFolder_Accepted(t *testing.T) {
	f := newGraphFake(t)
	f.mux.HandleFunc("POST /drives/drive-1/items/{item}/copy", func(w http.ResponseWriter, r *http.Request) {
		f.copyCalls.Add(1)
		assert.Equal(t, "source-folder", r.PathValue("item"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "fail", r.URL.Query().Get("@microsoft.graph.conflictBehavior"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Target (2)", body["name"])

		w.Header().Set("Location", "https://monitor.example/copy/1")
		w.WriteHeader(http.StatusAccepted)
	})

	res, err := f.client().CopyFolder(context.Background(), testStorage(), "source-folder", "/Target (2)/")
	require.NoError(t, err)
	assert.Equal(t, "https://monitor.example/copy/1", res.PollingURL)
	assert.Empty(t, res.ID)
	assert.EqualValues(t, 1, f.copyCalls.Load())
}

func TestCopyFolder_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.ErrUnauthorized},
		{http.StatusForbidden, errors.ErrForbidden},
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusConflict, errors.ErrConflict},
		{http.StatusInternalServerError, errors.ErrProvider},
		{http.StatusBadRequest, errors.ErrProvider},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			f := newGraphFake(t)
			f.mux.HandleFunc("POST /drives/drive-1/items/{item}/copy", func(w http.ResponseWriter, r *http.Request) {
				f.copyCalls.Add(1)
				w.WriteHeader(tt.status)
			})

			res, err := f.client().CopyFolder(context.Background(), testStorage(), "src", "/dst/")
			assert.Nil(t, res)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			assert.EqualValues(t, 1, f.copyCalls.Load(), "copy is never retried")
		})
	}
}

func TestCopyFolder_BlankPaths(t *testing.T) {
	f := newGraphFake(t)
	c := f.client()

	for _, args := range [][2]string{{"", "/dst/"}, {"src", "  "}} {
		_, err := c.CopyFolder(context.Background(), testStorage(), args[0], args[1])
		assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	}
	assert.Zero(t, f.tokenCalls.Load(), "no remote call for invalid input")
}

func TestCopyFolder_TransportFailureIsDiscarded(t *testing.T) {
	f := newGraphFake(t)
	c := f.client()
	f.mux.HandleFunc("POST /drives/drive-1/items/{item}/copy", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	})

	_, err := c.CopyFolder(context.Background(), testStorage(), "src", "/dst/")
	assert.True(t, errors.IsDiscard(err), "got %v", err)
}

func item(id, name, parentPath string, childCount int) map[string]interface{} {
	it := map[string]interface{}{
		"id":              id,
		"name":            name,
		"parentReference": map[string]string{"driveId": "drive-1", "path": parentPath},
	}
	if childCount >= 0 {
		it["folder"] = map[string]int{"childCount": childCount}
	} else {
		it["file"] = map[string]string{"mimeType": "text/plain"}
	}
	return it
}

func TestFolderFileIDs_RecursesAndPaginates(t *testing.T) {
	f := newGraphFake(t)
	var unavailable atomic.Bool
	unavailable.Store(true)

	f.mux.HandleFunc("GET /drives/drive-1/items/{item}/children", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("item") == "target-folder" && r.URL.Query().Get("page") == "":
			if unavailable.CompareAndSwap(true, false) {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []interface{}{
					item("id-a", "a.txt", "/drives/drive-1/root:/Target%20(2)", -1),
					item("id-sub", "sub", "/drives/drive-1/root:/Target%20(2)", 1),
				},
				"@odata.nextLink": f.server.URL + "/drives/drive-1/items/target-folder/children?page=2",
			})
		case r.PathValue("item") == "target-folder":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []interface{}{item("id-b", "b.txt", "/drives/drive-1/root:/Target (2)", -1)},
			})
		case r.PathValue("item") == "id-sub":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []interface{}{item("id-c", "c.txt", "/drives/drive-1/root:/Target (2)/sub", -1)},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	files, err := f.client().FolderFileIDs(context.Background(), testStorage(), types.ParentFolder{Location: "target-folder"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"/Target (2)/a.txt":     "id-a",
		"/Target (2)/sub":       "id-sub",
		"/Target (2)/b.txt":     "id-b",
		"/Target (2)/sub/c.txt": "id-c",
	}, files)
	assert.EqualValues(t, 1, f.tokenCalls.Load(), "token is cached across requests")
}

func TestFolderFileIDs_PermanentFailure(t *testing.T) {
	f := newGraphFake(t)
	f.mux.HandleFunc("GET /drives/drive-1/items/{item}/children", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := f.client().FolderFileIDs(context.Background(), testStorage(), types.ParentFolder{Location: "x"})
	assert.True(t, errors.HasCode(err, errors.ErrForbidden))
}

func TestFilesInfo(t *testing.T) {
	f := newGraphFake(t)
	f.mux.HandleFunc("GET /drives/drive-1/items/{item}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("item") != "f1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, item("f1", "file.txt", "/drive/root:/Source (1)", -1))
	})

	infos, err := f.client().FilesInfo(context.Background(), testStorage(), 42, []string{"f1", "gone"})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, types.StorageFileInfo{
		ID: "f1", Name: "file.txt", Location: "/Source (1)/file.txt", Status: "ok", StatusCode: http.StatusOK,
	}, infos[0])
	assert.Equal(t, "gone", infos[1].ID)
	assert.Equal(t, http.StatusNotFound, infos[1].StatusCode)
}

func TestAuth_RejectedCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tenant-1/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := NewAuth(server.URL, time.Second).Token(context.Background(), testStorage())
	assert.True(t, errors.HasCode(err, errors.ErrUnauthorized))
}
