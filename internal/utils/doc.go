// Package utils exposes the ambient helpers shared by the tp command.
//
// ConfigurationLoader merges embedded defaults, configuration files, and TP_*
// environment overrides through Viper. LoggerFactory builds zap loggers in
// structured or console form.
package utils
