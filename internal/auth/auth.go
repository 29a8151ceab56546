// Package auth logs the scraper into the supplier storefront.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-sync/internal/browser"
)

// ErrAuthentication means the storefront rejected the credentials.
var ErrAuthentication = errors.New("authentication failed")

type Selectors struct {
	Email    string
	Password string
	Submit   string
	// Error marks a rejected login on the page the form submits to.
	Error string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Email:    "#username",
		Password: "#password",
		Submit:   `button[name="login"]`,
		Error:    ".woocommerce-error, .login-error",
	}
}

type Authenticator struct {
	LoginURL  string
	Email     string
	Password  string
	Selectors Selectors
	logger    *slog.Logger
}

func New(loginURL, email, password string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		LoginURL:  loginURL,
		Email:     email,
		Password:  password,
		Selectors: DefaultSelectors(),
		logger:    logger.With("component", "auth"),
	}
}

// Login opens a page, submits the login form and returns the page once the
// storefront accepted the credentials. The caller owns the returned page.
// On any failure the page is closed before returning.
func (a *Authenticator) Login(ctx context.Context, b browser.Browser) (browser.Page, error) {
	if a.LoginURL == "" || a.Email == "" || a.Password == "" {
		return nil, fmt.Errorf("%w: credentials are not configured", ErrAuthentication)
	}

	page, err := b.NewPage()
	if err != nil {
		return nil, err
	}

	if err := a.submit(ctx, page); err != nil {
		page.Close()
		return nil, err
	}

	a.logger.Info("logged in", "url", page.URL())
	return page, nil
}

func (a *Authenticator) submit(ctx context.Context, page browser.Page) error {
	a.logger.Info("logging in", "url", a.LoginURL)

	if err := page.Navigate(ctx, a.LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	if err := page.Fill(a.Selectors.Email, a.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := page.Fill(a.Selectors.Password, a.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(a.Selectors.Submit); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	if err := page.WaitForLoad(); err != nil {
		return fmt.Errorf("wait for login: %w", err)
	}

	html, err := page.Content()
	if err != nil {
		return fmt.Errorf("read login result: %w", err)
	}
	if msg, rejected := loginError(html, a.Selectors.Error); rejected {
		if msg == "" {
			return ErrAuthentication
		}
		return fmt.Errorf("%w: %s", ErrAuthentication, msg)
	}
	return nil
}

func loginError(html, selector string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.Join(strings.Fields(sel.Text()), " "), true
}
