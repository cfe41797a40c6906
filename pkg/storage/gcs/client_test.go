package gcs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/digistore1/digistore-backend/pkg/config"
)

func mustPEMKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func TestSignedReadURLSuccess(t *testing.T) {
	t.Parallel()

	client := &Client{
		defaultBucket:  "bucket",
		googleAccessID: "signer@example.com",
		privateKey:     mustPEMKey(t),
		now:            func() time.Time { return time.Now() },
	}

	urlStr, err := client.SignedReadURL("", "/deliverables/icon-pack.zip", 5*time.Minute)
	if err != nil {
		t.Fatalf("SignedReadURL returned error: %v", err)
	}
	parsed, err := url.Parse(urlStr)
	if err != nil {
		t.Fatalf("parse signed read url: %v", err)
	}
	if !strings.EqualFold(parsed.Host, "storage.googleapis.com") {
		t.Fatalf("unexpected host %s", parsed.Host)
	}
	if parsed.Path != "/bucket/deliverables/icon-pack.zip" {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	values := parsed.Query()
	if got := values.Get("X-Goog-Expires"); got != "300" {
		t.Fatalf("unexpected X-Goog-Expires %q", got)
	}
	if !strings.HasPrefix(values.Get("X-Goog-Credential"), "signer@example.com/") {
		t.Fatalf("unexpected credential %q", values.Get("X-Goog-Credential"))
	}
	if values.Get("X-Goog-Signature") == "" {
		t.Fatal("expected a signature")
	}
}

func TestSignedReadURLErrors(t *testing.T) {
	t.Parallel()

	client := &Client{googleAccessID: "test@example.com", privateKey: mustPEMKey(t)}
	cases := []struct {
		name   string
		bucket string
		object string
		ttl    time.Duration
	}{
		{"missing bucket", "", "object", time.Minute},
		{"missing object", "bucket", "", time.Minute},
		{"negative ttl", "bucket", "object", -time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := client.SignedReadURL(tc.bucket, tc.object, tc.ttl); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}

	if _, err := (&Client{}).SignedReadURL("bucket", "object", time.Minute); err == nil {
		t.Fatal("expected error without service account")
	}
}

func TestNewClientParsesCredentials(t *testing.T) {
	t.Parallel()

	creds, _ := json.Marshal(map[string]string{"client_email": "signer@example.com", "private_key": string(mustPEMKey(t))})

	client, err := NewClient(context.Background(), config.DownloadsConfig{BucketName: "bucket"}, config.GCPConfig{CredentialsJSON: string(creds)}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.DefaultBucket() != "bucket" || client.googleAccessID != "signer@example.com" {
		t.Fatalf("unexpected client %+v", client)
	}

	if _, err := NewClient(context.Background(), config.DownloadsConfig{BucketName: "bucket"}, config.GCPConfig{}, nil); err == nil {
		t.Fatal("expected missing credentials error")
	}
	if _, err := NewClient(context.Background(), config.DownloadsConfig{BucketName: "bucket"}, config.GCPConfig{CredentialsJSON: `{"client_email":"x"}`}, nil); err == nil {
		t.Fatal("expected invalid credentials error")
	}
}
