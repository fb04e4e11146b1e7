package main

// General API documentation for swaggo. Regenerate internal/httpapi/docs with
// `swag init -g cmd/stepllm/docs.go -o internal/httpapi/docs`.
//
// @title           stepllm API
// @version         1.0
// @description     HTTP API for local step-wise LLM text generation.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
