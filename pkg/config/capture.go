package config

// CaptureConfig holds the error-capture client settings a host application boots with.
type CaptureConfig struct {
	EndpointURL  string
	ProjectToken string
	App          string
	Env          string
	Release      string
	Tags         map[string]string
}

// LoadCaptureConfig reads capture settings from the environment. Tags are read from
// CAPTURE_TAGS as comma separated key=value pairs.
func LoadCaptureConfig(app string) CaptureConfig {
	return CaptureConfig{
		EndpointURL:  GetString("CAPTURE_ENDPOINT_URL", ""),
		ProjectToken: GetString("CAPTURE_PROJECT_TOKEN", ""),
		App:          GetString("CAPTURE_APP", app),
		Env:          GetString("CAPTURE_ENV", GetString("APP_ENV", "development")),
		Release:      GetString("CAPTURE_RELEASE", ""),
		Tags:         GetMap("CAPTURE_TAGS"),
	}
}
