package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

func TestSignup_RejectsShortPassword(t *testing.T) {
	h := &AuthHandler{}
	c, _ := jsonContext(t, http.MethodPost, "/api/auth/signup", AuthSignupRequest{
		Email:    "a@example.com",
		Password: "short",
	})
	err := h.signup(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSignup_CreatesUser(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st}

	insert := regexp.QuoteMeta(`INSERT INTO users (email, password_hash) VALUES ($1,$2)`)
	mock.ExpectExec(insert).
		WithArgs("a@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, rec := jsonContext(t, http.MethodPost, "/api/auth/signup", AuthSignupRequest{
		Email:    "a@example.com",
		Password: "long enough password",
	})
	if err := h.signup(c); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogin_SetsCookieAndToken(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()
	secret := []byte("test-secret")
	h := &AuthHandler{Store: st, Secret: secret}

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	query := regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)
	mock.ExpectQuery(query).WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("u1", string(hash)))

	c, rec := jsonContext(t, http.MethodPost, "/api/auth/login", AuthLoginRequest{
		Email:    "a@example.com",
		Password: "correct horse",
	})
	if err := h.login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token")
	}

	var authCookie *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "auth" {
			authCookie = ck
		}
	}
	if authCookie == nil || !authCookie.HttpOnly {
		t.Fatal("expected an HttpOnly auth cookie")
	}
	if authCookie.Value != resp.Token {
		t.Fatal("cookie and body token diverge")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	st, mock, cleanup := setupHandlerStore(t)
	defer cleanup()
	h := &AuthHandler{Store: st, Secret: []byte("test-secret")}

	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	query := regexp.QuoteMeta(`SELECT id, password_hash FROM users WHERE email=$1`)
	mock.ExpectQuery(query).WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).AddRow("u1", string(hash)))

	c, _ := jsonContext(t, http.MethodPost, "/api/auth/login", AuthLoginRequest{
		Email:    "a@example.com",
		Password: "wrong",
	})
	loginErr := h.login(c)
	he, ok := loginErr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", loginErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
