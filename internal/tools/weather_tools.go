package tools

import (
	"context"
	"fmt"
)

func (r *Registry) registerWeatherTools() {
	r.register(&Tool{
		Name:        NameGetWeather,
		Description: "Get the weather for a city. Requires the city name; if the user's location is unknown, call get_user_location first.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "The city to get weather for",
				},
			},
			"required": []string{"city"},
		},
		Handler: handleGetWeather,
	})

	r.register(&Tool{
		Name:        NameGetUserLocation,
		Description: "Look up where the current user is located. Use this before asking for weather when the question does not name a city.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: handleGetUserLocation,
	})
}

func handleGetWeather(ctx context.Context, args map[string]any) (string, error) {
	city := stringArg(args, "city")
	if city == "" {
		return "", fmt.Errorf("get_weather_for_location: missing city")
	}

	Progress(ctx, fmt.Sprintf("Looking up data for city: %s", city))
	Progress(ctx, fmt.Sprintf("Acquired data for city: %s", city))
	return fmt.Sprintf("The weather in %s is always sunny!", city), nil
}

func handleGetUserLocation(ctx context.Context, _ map[string]any) (string, error) {
	if UserIDFromContext(ctx) == "1" {
		return "Shenzhen", nil
	}
	return "China", nil
}
