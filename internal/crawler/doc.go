// Package crawler holds the fetch-side building blocks shared by the
// scheduler: request/response types, fetch error classification, the retry
// policy, politeness delays, the domain allow-list, URL helpers and sitemap
// discovery.
package crawler
