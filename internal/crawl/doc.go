// Package crawl defines the core types shared across the harvest pipeline:
// frontier entries and their state machine, fetched pages, extracted
// documents, and the chunk records handed to persistence.
package crawl
