// Package otp generates and checks time-based one-time codes (RFC 6238)
// for the second authentication factor.
//
// Codes are accepted anywhere inside the skew window and are not
// remembered, so a code can be submitted again until its window passes.
package otp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type Config struct {
	Issuer     string
	Algorithm  otp.Algorithm
	Digits     otp.Digits
	Period     uint
	Skew       uint
	SecretSize uint
}

func DefaultConfig() Config {
	return Config{
		Issuer:     "Eruptible PM",
		Algorithm:  otp.AlgorithmSHA1,
		Digits:     otp.DigitsSix,
		Period:     30,
		Skew:       1,
		SecretSize: 20,
	}
}

// Enrollment is a freshly generated shared secret.
type Enrollment struct {
	// Secret is base32 encoded, as typed into authenticator apps.
	Secret string
	// ProvisioningURI is the otpauth:// URI shown as a QR code.
	ProvisioningURI string
}

// QRCodeDataURL renders the provisioning URI as a PNG data URL.
func (e *Enrollment) QRCodeDataURL(size int) (string, error) {
	key, err := otp.NewKeyFromURL(e.ProvisioningURI)
	if err != nil {
		return "", err
	}
	img, err := key.Image(size, size)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

type Generator struct {
	cfg Config
	now func() time.Time
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{cfg: cfg, now: time.Now}
}

func (g *Generator) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    g.cfg.Period,
		Skew:      g.cfg.Skew,
		Digits:    g.cfg.Digits,
		Algorithm: g.cfg.Algorithm,
	}
}

// GenerateSecret creates a random secret for accountName.
func (g *Generator) GenerateSecret(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.cfg.Issuer,
		AccountName: accountName,
		Period:      g.cfg.Period,
		SecretSize:  g.cfg.SecretSize,
		Digits:      g.cfg.Digits,
		Algorithm:   g.cfg.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// Verify checks code against secret at the current time.
func (g *Generator) Verify(code, secret string) bool {
	return g.VerifyAt(code, secret, g.now())
}

// VerifyAt accepts code if it matches any step within the skew window
// around t. Malformed codes or secrets never verify.
func (g *Generator) VerifyAt(code, secret string, t time.Time) bool {
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), g.opts())
	return err == nil && ok
}

// CodeAt returns the code for the time step containing t.
func (g *Generator) CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), g.opts())
}
