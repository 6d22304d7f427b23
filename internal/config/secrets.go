package config

import (
	"fmt"

	"github.com/ZakirC4/papermc-setup/internal/crypto"
)

// secretFields lists the config values that are sealed on Save when $ENCRYPTION_KEY is set
func (c *Config) secretFields() map[string]*string {
	return map[string]*string{
		"auth.jwt_secret":                       &c.Auth.JWTSecret,
		"backups.destination.secret_access_key": &c.Backups.Destination.SecretAccessKey,
		"backups.destination.password":          &c.Backups.Destination.Password,
	}
}

func (c *Config) openSecrets() error {
	em, err := crypto.FromEnv()
	if err != nil {
		return err
	}
	for name, field := range c.secretFields() {
		if !crypto.IsSealed(*field) {
			continue
		}
		if em == nil {
			return fmt.Errorf("%s is encrypted: %w", name, crypto.ErrNoKey)
		}
		plain, err := em.Open(*field)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

// sealedCopy returns cfg with secrets sealed, or cfg itself when no key is configured
func sealedCopy(cfg *Config) (*Config, error) {
	em, err := crypto.FromEnv()
	if err != nil || em == nil {
		return cfg, err
	}
	out := *cfg
	for name, field := range out.secretFields() {
		sealed, err := em.Seal(*field)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		*field = sealed
	}
	return &out, nil
}
