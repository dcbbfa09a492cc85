package security

import (
	"errors"
	"testing"
	"time"

	"PPFeed/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, hash, exp, err := Generate(opts, "u1", []string{"chat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry in the past: %v", exp)
	}
	claims, err := Verify(opts, token, hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != "u1" {
		t.Fatalf("user = %q", claims.UserID())
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	good, _, _, err := Generate(opts, "u1", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	expired := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(-time.Minute).Unix(),
	})
	expiredTok, _ := expired.SignedString(opts.Secret)
	noExp := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"userId": "u1"})
	noExpTok, _ := noExp.SignedString(opts.Secret)

	cases := []struct {
		name  string
		opts  Options
		token string
	}{
		{"empty", opts, ""},
		{"garbage", opts, "not.a.jwt"},
		{"wrong secret", DefaultOptions([]byte("other")), good},
		{"expired", opts, expiredTok},
		{"no expiry", opts, noExpTok},
		{"alg mismatch", Options{Secret: opts.Secret, Alg: "HS512"}, good},
	}
	for _, c := range cases {
		if _, err := VerifyUser(c.opts, c.token); !errors.Is(err, errs.ErrAuthRejected) {
			t.Errorf("%s: expected AuthRejected, got %v", c.name, err)
		}
	}
}

func TestVerifyUserRequiresSubject(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := tok.SignedString(opts.Secret)
	if _, err := VerifyUser(opts, signed); !errors.Is(err, errs.ErrAuthRejected) {
		t.Fatalf("expected AuthRejected without subject, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := BearerToken("bearer  xyz "); got != "xyz" {
		t.Fatalf("got %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("got %q", got)
	}
}
