package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

func TestWordPressPublishWithFeaturedImage(t *testing.T) {
	var postBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegbytes"))
	})
	mux.HandleFunc("/wp-json/wp/v2/media", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("media upload missing auth header")
		}
		_, _ = w.Write([]byte(`{"id":55}`))
	})
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&postBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":101,"link":"https://blog.example.com/?p=101"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pub := NewWordPressPublisher(logging.NewLogger())
	pub.baseURL = server.URL

	res, err := pub.Publish(context.Background(), "admin:xxxx yyyy", Payload{
		OrgID: "org-1",
		Text:  "Release notes\nFull details inside.\n[img]" + server.URL + "/image.jpg[/img]",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.Success || res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ResponseID != "101" || res.URL != "https://blog.example.com/?p=101" {
		t.Fatalf("unexpected result %+v", res)
	}
	if postBody["title"] != "Release notes" {
		t.Fatalf("title should be first line, got %v", postBody["title"])
	}
	if postBody["featured_media"] != float64(55) {
		t.Fatalf("featured_media not set: %v", postBody["featured_media"])
	}
}

func TestWordPressPublishDegradesWhenImageUploadFails(t *testing.T) {
	var postBody map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpegbytes"))
	})
	mux.HandleFunc("/wp-json/wp/v2/media", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&postBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":102,"link":"https://blog.example.com/?p=102"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pub := NewWordPressPublisher(logging.NewLogger())
	pub.baseURL = server.URL

	res, err := pub.Publish(context.Background(), "admin:pw", Payload{
		OrgID: "org-1",
		Text:  "Post title\nBody.\n[img]" + server.URL + "/image.jpg[/img]",
	})
	if err != nil {
		t.Fatalf("degraded publish must still succeed: %v", err)
	}
	if !res.Success || !res.Degraded {
		t.Fatalf("expected degraded success, got %+v", res)
	}
	if res.Note != "image attach failed" {
		t.Fatalf("unexpected note %q", res.Note)
	}
	if _, ok := postBody["featured_media"]; ok {
		t.Fatal("degraded post must not reference failed media")
	}
}

func TestWordPressPublishFailsOnPostError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Incorrect application password."}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pub := NewWordPressPublisher(logging.NewLogger())
	pub.baseURL = server.URL

	_, err := pub.Publish(context.Background(), "admin:wrong", Payload{OrgID: "org-1", Text: "title\nbody"})
	if err == nil {
		t.Fatal("expected error")
	}
}
