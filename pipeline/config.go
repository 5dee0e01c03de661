package pipeline

import (
	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/validation"
)

// StageConfig is the declarative form of a stage's scheduling settings, as
// loaded from YAML or the environment:
//
//	stages:
//	  fetch:
//	    policy: ordered
//	    concurrency: 4
//	    buffer: 8
type StageConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Policy      string `mapstructure:"policy" yaml:"policy" validate:"omitempty,oneof=serial ordered unordered"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=0"`
	Buffer      int    `mapstructure:"buffer" yaml:"buffer" validate:"gte=0"`
}

// Validate checks the field constraints and that the policy can be built.
func (c StageConfig) Validate() error {
	if err := validation.Validate(c); err != nil {
		field := c.Name
		if field == "" {
			field = "stage"
		}
		return apperrors.InvalidConfig(field, err.Error()).WithCause(err)
	}
	p, err := c.BuildPolicy()
	if err != nil {
		return err
	}
	return p.validate()
}

// BuildPolicy turns Policy and Concurrency into a Policy.
func (c StageConfig) BuildPolicy() (Policy, error) {
	return ParsePolicy(c.Policy, c.Concurrency)
}

// Options returns the stage options the config implies.
func (c StageConfig) Options() []StageOption {
	opts := []StageOption{WithBuffer(c.Buffer)}
	if c.Name != "" {
		opts = append(opts, WithName(c.Name))
	}
	return opts
}

// ThenWith appends a stage configured by cfg. A config error surfaces from
// Build.
func ThenWith[I, O any](b *Builder[I], fn Transform[I, O], cfg StageConfig, opts ...StageOption) *Builder[O] {
	all := cfg.Options()
	p, err := cfg.BuildPolicy()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		p = Serial()
		all = append(all, WithBuffer(0), withError(err))
	}
	return Then(b, fn, p, append(all, opts...)...)
}
