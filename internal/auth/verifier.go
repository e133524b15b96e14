// Package auth verifies the signed session cookie carried on the WebSocket
// handshake and extracts the caller identity.
//
// The surrounding LearnSphere platform issues session cookies in the
// cookie-parser convention: the cookie value is "s:" followed by a JWT and an
// HMAC-SHA256 signature over it. Verification therefore happens in two layers:
// the cookie signature (cookie secret) and the JWT itself (JWT secret).
//
// Verification is a pure function of the handshake request — no state is read
// or written, and it must run before any per-connection resource is allocated.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reason classifies why a credential was rejected.
type Reason string

const (
	// ReasonNoSessionToken means the session cookie was absent from the handshake.
	ReasonNoSessionToken Reason = "no_session_token"

	// ReasonInvalidSignature means the cookie signature did not match, i.e. the
	// cookie value was tampered with or signed with a different secret.
	ReasonInvalidSignature Reason = "invalid_signature"

	// ReasonInvalidToken means the embedded JWT failed cryptographic
	// verification or has expired.
	ReasonInvalidToken Reason = "invalid_token"

	// ReasonMalformedPayload means the JWT verified but carries no usable
	// subject identifier.
	ReasonMalformedPayload Reason = "malformed_payload"
)

// Error is a typed authentication failure. Callers inspect Reason to pick a
// close code; Message is safe to echo back to the client.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Reason, e.Message)
}

// Identity is the verified caller for one connection. It is produced once per
// handshake and never changes for the connection's lifetime.
type Identity struct {
	// ID is the platform user id taken from the JWT "sub" claim.
	ID string
}

// Verifier validates signed session cookies. It is stateless and safe for
// concurrent use.
type Verifier struct {
	cookieName   string
	cookieSecret []byte
	jwtSecret    []byte
}

// NewVerifier creates a Verifier for the named cookie. cookieSecret signs the
// cookie envelope; jwtSecret signs the JWT inside it.
func NewVerifier(cookieName string, cookieSecret, jwtSecret []byte) *Verifier {
	return &Verifier{
		cookieName:   cookieName,
		cookieSecret: cookieSecret,
		jwtSecret:    jwtSecret,
	}
}

// Verify extracts and validates the session cookie from the handshake request.
// On success it returns the caller's Identity; on failure the returned error
// is always a *Error.
func (v *Verifier) Verify(r *http.Request) (Identity, error) {
	c, err := r.Cookie(v.cookieName)
	if err != nil {
		return Identity{}, &Error{ReasonNoSessionToken, "no session token provided"}
	}

	// Cookie values arrive percent-encoded from browser clients. PathUnescape
	// (not QueryUnescape) keeps literal '+' characters in the signature intact.
	raw := c.Value
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}

	token, ok := v.unsign(raw)
	if !ok {
		return Identity{}, &Error{ReasonInvalidSignature, "session cookie signature mismatch"}
	}

	subject, err := v.verifyToken(token)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return Identity{}, authErr
		}
		return Identity{}, &Error{ReasonInvalidToken, err.Error()}
	}

	return Identity{ID: subject}, nil
}

// unsign strips the "s:" prefix and checks the trailing HMAC-SHA256 signature
// against the cookie secret. Returns the embedded value and whether the
// signature matched.
func (v *Verifier) unsign(raw string) (string, bool) {
	value, found := strings.CutPrefix(raw, "s:")
	if !found {
		return "", false
	}
	dot := strings.LastIndexByte(value, '.')
	if dot < 0 {
		return "", false
	}
	payload, sig := value[:dot], value[dot+1:]

	mac := hmac.New(sha256.New, v.cookieSecret)
	mac.Write([]byte(payload))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	want = strings.TrimRight(want, "=")

	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return payload, true
}

// verifyToken parses the JWT, enforcing HS256 and expiry, and returns the
// non-empty subject claim.
func (v *Verifier) verifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &Error{ReasonInvalidToken, "session token expired"}
		}
		return "", &Error{ReasonInvalidToken, "session token verification failed"}
	}
	if !token.Valid {
		return "", &Error{ReasonInvalidToken, "session token is invalid"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", &Error{ReasonMalformedPayload, "session token carries no claims"}
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", &Error{ReasonMalformedPayload, "session token carries no subject"}
	}
	return sub, nil
}

// Sign produces a signed session cookie value for the given user id, valid for
// expiresIn. It is the inverse of Verify and exists for tests and local
// tooling — cookie issuance in production belongs to the platform's auth
// service.
func (v *Verifier) Sign(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	mac := hmac.New(sha256.New, v.cookieSecret)
	mac.Write([]byte(token))
	sig := strings.TrimRight(base64.StdEncoding.EncodeToString(mac.Sum(nil)), "=")

	return "s:" + token + "." + sig, nil
}
