// Package cli implements the alertrelay command line.
//
//	alertrelay send      deliver one alert through the configured channels
//	alertrelay drain     replay the failure queue once
//	alertrelay status    summarize the failure queue and recent deliveries
//	alertrelay serve     drain on a schedule, reload policy on change
//	alertrelay topics    show the forum thread each tag routes to
package cli
