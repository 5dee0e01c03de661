// Package validation provides input validation for stagekit configuration
// and monitor requests.
//
// It supports struct tag validation through go-playground/validator and a
// fluent validator that collects field errors. Both report a VALIDATION
// AppError whose details list the offending fields.
//
// # Struct Tag Validation
//
//	type StageConfig struct {
//	    Policy      string `validate:"required,oneof=serial ordered unordered"`
//	    Concurrency int    `validate:"gte=1"`
//	}
//	err := validation.Validate(cfg)
//
// # Fluent Validation
//
//	err := validation.New().
//	    Min("concurrency", n, 1).
//	    Min("buffer", b, 0).
//	    Validate()
package validation
