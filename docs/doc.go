// Package docs provides generated OpenAPI documentation.
//
// ChartDesk API
//
//	@title			ChartDesk API
//	@version		1.0
//	@description	Chart digitization pipeline API for managing scanned chart jobs, extraction, and exports.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/chartdesk/chartdesk
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8090
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/chartdesk/serve.go -o ./swagger --parseDependency --parseInternal
