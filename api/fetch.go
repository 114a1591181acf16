package api

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// UpstreamConditions is the joined result of the current and forecast calls
type UpstreamConditions struct {
	Current  *CurrentWeatherResponse
	Forecast *ForecastResponse
}

// FetchConditions issues the current and forecast calls concurrently. It returns
// both payloads or the first *UpstreamError; the other call is cancelled on failure.
func (w *WeatherClient) FetchConditions(ctx context.Context, apiKey, query string) (*UpstreamConditions, error) {
	var result UpstreamConditions

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		current, err := w.GetCurrentWeather(gCtx, apiKey, query)
		if err != nil {
			return err
		}
		result.Current = current
		return nil
	})

	g.Go(func() error {
		forecast, err := w.GetForecast(gCtx, apiKey, query)
		if err != nil {
			return err
		}
		result.Forecast = forecast
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &result, nil
}
