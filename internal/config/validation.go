package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags, then the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch cfg.Store.Type {
	case "postgres", "mysql":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for %s", cfg.Store.Type)
		}
	case "mongodb":
		if cfg.Store.DSN == "" && cfg.Store.MongoDB["uri"] == nil {
			return fmt.Errorf("store: mongodb needs dsn or mongodb.uri")
		}
	case "s3":
		if cfg.Store.DSN == "" && cfg.Store.S3["bucket"] == nil {
			return fmt.Errorf("store: s3 needs dsn or s3.bucket")
		}
	}
	return nil
}

// formatValidationError reports the first failing field
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
