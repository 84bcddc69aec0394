// Package crawler holds the domain model of the audiobook crawl engine: queue
// entries, book candidates and records, run log entries, and the interfaces
// (Frontier, BookStore, PageFetcher) that storage and fetch bindings implement.
package crawler
