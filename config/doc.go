// Package config loads stagekit configuration from YAML files, .env files and
// environment variables.
//
// Files are resolved from conventional locations (cmd/<service>/config.yml,
// config/config.yml, ./config.yml) unless given explicitly. Environment
// variables override file values: PIPELINE_STAGES_0_BUFFER, for example, can
// address pipeline.stages_0_buffer or pipeline.stages.0.buffer.
//
// # Usage
//
//	var cfg AppConfig
//	if err := config.LoadConfig("imagepipe", &cfg); err != nil {
//	    return err
//	}
package config
