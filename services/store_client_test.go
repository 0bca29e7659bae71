package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fenilmodi00/giftlist-backend/models"
	"github.com/fenilmodi00/giftlist-backend/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStoreClient(url string, opaque bool) *StoreClient {
	return NewStoreClient(&StoreClientConfiguration{
		BaseURL:      url,
		FetchTimeout: 2 * time.Second,
		Opaque:       opaque,
	})
}

func jsonpServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fetch", r.URL.Query().Get("action"))
		callback := r.URL.Query().Get("callback")
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "%s(%s);", callback, payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestStoreClientFetchAllJSONP(t *testing.T) {
	server := jsonpServer(t, `[
		{"kdo":"Ann","odKoho":"Eva","co":"Book","odkaz":"","status":"Vyjasnit"},
		{"kdo":"  ","co":"Lost","status":"Hotovo"},
		{"kdo":"Bob","co":"","status":"Hotovo"},
		"not a row",
		{"kdo":"Bob","co":2024,"status":"Hotovo"}
	]`)

	gifts, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	assert.Equal(t, models.Gift{Who: "Ann", FromWhom: "Eva", Item: "Book", Status: "Vyjasnit"}, gifts[0])
	assert.Equal(t, "2024", gifts[1].Item)
}

func TestStoreClientFetchAllNonListIsEmpty(t *testing.T) {
	server := jsonpServer(t, `{"error":"sheet missing"}`)

	gifts, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gifts)
}

func TestStoreClientFetchAllAcceptsBareJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"kdo":"Ann","co":"Book","status":""}]`)
	}))
	defer server.Close()

	gifts, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, gifts, 1)
}

func TestStoreClientFetchAllErrors(t *testing.T) {
	t.Run("invalid json is a parse error", func(t *testing.T) {
		server := jsonpServer(t, `[{"kdo":`)
		_, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, shared.IsCategory(err, shared.ErrorCategoryParse))
	})

	t.Run("foreign callback is a parse error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `other([])`)
		}))
		defer server.Close()
		_, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
		assert.True(t, shared.IsCategory(err, shared.ErrorCategoryParse))
	})

	t.Run("non-200 is a network error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()
		_, err := newTestStoreClient(server.URL, true).FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, shared.IsCategory(err, shared.ErrorCategoryNetwork))
	})

	t.Run("no answer within the bound is a timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		client := NewStoreClient(&StoreClientConfiguration{BaseURL: server.URL, FetchTimeout: 50 * time.Millisecond})
		_, err := client.FetchAll(context.Background())
		require.Error(t, err)
		assert.True(t, shared.IsCategory(err, shared.ErrorCategoryTimeout), "got %v", err)
	})
}

func TestStoreClientSave(t *testing.T) {
	gift := models.Gift{Who: "Ann", FromWhom: "Eva", Item: "Book", Link: "http://x", Status: "Hotovo"}

	t.Run("opaque mode reports sent whatever the body says", func(t *testing.T) {
		seen := make(chan map[string]string, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			seen <- map[string]string{"action": q.Get("action"), "kdo": q.Get("kdo"), "odKoho": q.Get("odKoho"),
				"co": q.Get("co"), "odkaz": q.Get("odkaz"), "status": q.Get("status")}
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "ERROR: boom")
		}))
		defer server.Close()

		ack := newTestStoreClient(server.URL, true).Save(context.Background(), gift)
		assert.Equal(t, SaveSent, ack.Outcome)
		assert.False(t, ack.TransportFailed())
		assert.Equal(t, map[string]string{"action": "save", "kdo": "Ann", "odKoho": "Eva", "co": "Book",
			"odkaz": "http://x", "status": "Hotovo"}, <-seen)
	})

	t.Run("cors mode reads the verdict", func(t *testing.T) {
		replies := make(chan string, 2)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, <-replies)
		}))
		defer server.Close()
		client := newTestStoreClient(server.URL, false)

		replies <- "SUCCESS: Gift updated in row 2"
		ack := client.Save(context.Background(), gift)
		assert.Equal(t, SaveConfirmed, ack.Outcome)
		assert.Equal(t, "SUCCESS: Gift updated in row 2", ack.Detail)

		replies <- "ERROR: Missing required parameters (kdo, co, status)"
		ack = client.Save(context.Background(), gift)
		assert.Equal(t, SaveFailed, ack.Outcome)
		assert.False(t, ack.Transport)
		assert.Error(t, ack.Err)
	})

	t.Run("unreachable store is a transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		ack := newTestStoreClient(url, true).Save(context.Background(), gift)
		assert.True(t, ack.TransportFailed())
		assert.True(t, shared.IsCategory(ack.Err, shared.ErrorCategoryNetwork))
	})
}

func TestUnwrapJSONP(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"callback with semicolon", `cb([1]);`, `[1]`, false},
		{"callback without semicolon", ` cb ( {"a":1} ) `, `{"a":1}`, false},
		{"bare list", `[]`, `[]`, false},
		{"other callback", `x([])`, "", true},
		{"unterminated", `cb([1]`, "", true},
		{"empty", `   `, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrapJSONP([]byte(tt.body), "cb")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
