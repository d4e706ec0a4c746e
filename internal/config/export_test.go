package config

func GetEnvAsBool(key string, defaultValue bool) bool {
	return getEnvAsBool(key, defaultValue)
}

func GetEnvAsInt(key string, defaultValue int64) (int64, error) {
	return getEnvAsInt(key, defaultValue)
}
