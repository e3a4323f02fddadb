// Package config holds the crawl configuration, its defaults and
// validation, and the loader for the YAML crawl rules file (.statecrawl).
package config
