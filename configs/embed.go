// Package configs provides the embedded configuration template for kbase.
//
// The template is embedded at build time so `kbase config init` works in
// every distribution: source builds, binary releases, containers.
package configs

import _ "embed"

// ConfigTemplate is the annotated configuration file template.
// Created by `kbase config init` at the default config path.
//
//go:embed config.example.yaml
var ConfigTemplate string
