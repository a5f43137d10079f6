package config

// DefaultProducts are the product types downloaded when none are configured.
var DefaultProducts = []string{"VMI", "SRI", "TEMP"}

const (
	DefaultFeedURL     = "wss://websocket.geosdi.org/wide-websocket"
	DefaultFeedOrigin  = "https://websocket.geosdi.org"
	DefaultFeedTopic   = "/topic/product"
	DefaultAPIEndpoint = "https://wagiqofvnk.execute-api.eu-south-1.amazonaws.com/prod/downloadProduct"
	DefaultOutputDir   = "./downloads"
)

// ValidLogLevels are the accepted logging.level values.
var ValidLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}
