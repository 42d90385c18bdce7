package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server       ServerConfig       `json:"server"`
	Logging      LoggingConfig      `json:"logging"`
	Database     DatabaseConfig     `json:"database"`
	Certificates CertificatesConfig `json:"certificates"`
	TSA          TSAConfig          `json:"tsa"`
	Signing      SigningConfig      `json:"signing"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

// CertificatesConfig points at the protected key store holding the three
// long-lived identities. Passphrases come from the environment, never from
// the config file.
type CertificatesConfig struct {
	Dir            string `json:"dir"`
	SealPKCS12     string `json:"seal_pkcs12"`
	CACert         string `json:"ca_cert"`
	CAKey          string `json:"ca_key"`
	TSACert        string `json:"tsa_cert"`
	TSAKey         string `json:"tsa_key"`
	SealPassphrase string `json:"-"`
	CAPassphrase   string `json:"-"`
	TSAPassphrase  string `json:"-"`
	Organization   string `json:"organization"`
}

type TSAConfig struct {
	PolicyOID      string        `json:"policy_oid"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// SigningConfig carries the knobs of the signature flow itself. The default
// stamp box is used when a signer's anchor marker cannot be found in the
// page text; an empty box means "fail instead".
type SigningConfig struct {
	OTPExpiry         time.Duration `json:"otp_expiry"`
	ComplianceCaption string        `json:"compliance_caption"`
	SignatureLocation string        `json:"signature_location"`
	TimeZone          string        `json:"time_zone"`
	DefaultStampPage  int           `json:"default_stamp_page"`
	DefaultStampBox   []float64     `json:"default_stamp_box"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
		applyEnv(config)
	})

	return config, err
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{}
	applyDefaults(config)
	applyEnv(config)
	return config
}

func applyDefaults(c *Configuration) {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.Username == "" {
		c.Database.Username = "postgres"
	}
	if c.Database.Name == "" {
		c.Database.Name = "parapheur"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 300
	}

	if c.Certificates.Dir == "" {
		c.Certificates.Dir = "certificates"
	}
	if c.Certificates.SealPKCS12 == "" {
		c.Certificates.SealPKCS12 = "hestia_server.pfx"
	}
	if c.Certificates.CACert == "" {
		c.Certificates.CACert = "hestia_certificate_authority.pem"
	}
	if c.Certificates.CAKey == "" {
		c.Certificates.CAKey = "hestia_certificate_authority_key.pem"
	}
	if c.Certificates.TSACert == "" {
		c.Certificates.TSACert = "hestia_tsa.pem"
	}
	if c.Certificates.TSAKey == "" {
		c.Certificates.TSAKey = "hestia_tsa_key.pem"
	}
	if c.Certificates.Organization == "" {
		c.Certificates.Organization = "HB CONSULTING (Hestia)"
	}

	if c.TSA.PolicyOID == "" {
		c.TSA.PolicyOID = "1.3.6.1.4.1.57264.1.1"
	}
	if c.TSA.RequestTimeout == 0 {
		c.TSA.RequestTimeout = 5 * time.Second
	}

	if c.Signing.OTPExpiry == 0 {
		c.Signing.OTPExpiry = 10 * time.Minute
	}
	if c.Signing.ComplianceCaption == "" {
		c.Signing.ComplianceCaption = "Signature conforme eIDAS"
	}
	if c.Signing.SignatureLocation == "" {
		c.Signing.SignatureLocation = "France"
	}
	if c.Signing.TimeZone == "" {
		c.Signing.TimeZone = "Europe/Paris"
	}
	if c.Signing.DefaultStampPage == 0 {
		c.Signing.DefaultStampPage = -1
	}
	if len(c.Signing.DefaultStampBox) == 0 {
		c.Signing.DefaultStampBox = []float64{425, 20, 575, 150}
	}
}

func applyEnv(c *Configuration) {
	if v := os.Getenv("PASSWORD_CERT_SERVER"); v != "" {
		c.Certificates.SealPassphrase = v
	}
	if v := os.Getenv("PASSWORD_CERT_CA"); v != "" {
		c.Certificates.CAPassphrase = v
	}
	if v := os.Getenv("PASSWORD_CERT_TSA"); v != "" {
		c.Certificates.TSAPassphrase = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	logger.Info("Application configuration",
		zap.String("port", config.Server.Port),
		zap.Duration("read_timeout", config.Server.ReadTimeout),
		zap.Duration("write_timeout", config.Server.WriteTimeout),
		zap.String("database_host", config.Database.Host),
		zap.String("database_name", config.Database.Name),
		zap.String("certificates_dir", config.Certificates.Dir),
		zap.String("tsa_policy_oid", config.TSA.PolicyOID),
		zap.Duration("tsa_request_timeout", config.TSA.RequestTimeout),
		zap.Duration("otp_expiry", config.Signing.OTPExpiry),
	)
}
