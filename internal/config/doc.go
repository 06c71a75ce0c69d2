// Package config loads alertrelay's process settings with viper.
//
// Settings cover where things live and how the process behaves (queue
// directory, journal, timeouts, drain schedule). What gets routed where is
// read from the site documents through internal/kv and is hot-reloadable;
// settings are read once at startup.
package config
