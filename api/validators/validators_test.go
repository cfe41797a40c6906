package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Buyer@Example.COM "); got != "buyer@example.com" {
		t.Fatalf("unexpected email %q", got)
	}
	if got := NormalizeEmail(strings.Repeat("a", 300)); len(got) != maxEmailBytes {
		t.Fatalf("expected truncation to %d, got %d", maxEmailBytes, len(got))
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?limit=%2040%20", nil)
	got, err := ParseQueryInt(req, "limit", 25, 1, 100)
	if err != nil || got != 40 {
		t.Fatalf("expected 40, got %d err %v", got, err)
	}

	got, err = ParseQueryInt(httptest.NewRequest("GET", "/", nil), "limit", 25, 1, 100)
	if err != nil || got != 25 {
		t.Fatalf("expected default 25, got %d err %v", got, err)
	}

	for _, raw := range []string{"abc", "0", "101"} {
		if _, err := ParseQueryInt(httptest.NewRequest("GET", "/?limit="+raw, nil), "limit", 25, 1, 100); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestQueryStringTruncates(t *testing.T) {
	req := httptest.NewRequest("GET", "/?cursor=abcdef", nil)
	if got := QueryString(req, "cursor", 3); got != "abc" {
		t.Fatalf("unexpected cursor %q", got)
	}
}

type lineItem struct {
	ProductID string `json:"product_id" validate:"required"`
}

type orderBody struct {
	Email   string     `json:"email" validate:"required,email"`
	Country string     `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Items   []lineItem `json:"items" validate:"required,min=1,dive"`
}

func decode(t *testing.T, body string) (orderBody, map[string]string, error) {
	t.Helper()
	var dest orderBody
	err := DecodeJSONBody(httptest.NewRequest("POST", "/", strings.NewReader(body)), &dest)
	if err == nil {
		return dest, nil, nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, _ := typed.Details().(map[string]string)
	return dest, details, err
}

func TestDecodeJSONBodyAcceptsValidObject(t *testing.T) {
	got, _, err := decode(t, `{"email":"a@b.co","country":"US","items":[{"product_id":"p1"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Items[0].ProductID)
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	_, details, err := decode(t, `{"email":"nope","country":"USA","items":[{}]}`)
	require.Error(t, err)
	assert.Equal(t, "must be a valid email", details["email"])
	assert.Equal(t, "must be a two-letter country code", details["country"])
	assert.Equal(t, "is required", details["items[0].product_id"])
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	tests := map[string]string{
		"empty":         ``,
		"syntax":        `{"email":`,
		"trailing":      `{"email":"a@b.co","items":[{"product_id":"p"}]} {}`,
		"unknown field": `{"email":"a@b.co","items":[{"product_id":"p"}],"admin":true}`,
		"wrong type":    `{"email":42}`,
		"too large":     `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := decode(t, body)
			assert.Error(t, err)
		})
	}
}

func TestDecodeJSONBodyNamesOffendingField(t *testing.T) {
	_, details, _ := decode(t, `{"email":"a@b.co","items":[],"admin":true}`)
	assert.Equal(t, "is not allowed", details["admin"])

	_, details, _ = decode(t, `{"email":42}`)
	assert.Equal(t, "must be string", details["email"])
}
