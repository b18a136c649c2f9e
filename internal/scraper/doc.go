// Package scraper defines the core types, interfaces, and the single-page
// scrape pipeline: fetch with retry, extract links and images, download
// assets under a bound, and persist everything into one session.
package scraper
