// Package recovery turns errors reaching the stream boundary into short,
// user-safe sentences.
//
// Classification prefers typed information (agenterr kinds, context
// deadlines, net.Error) and falls back to an ordered list of keyword
// matchers over the lower-cased message. The returned sentence never
// contains text from the error itself.
package recovery
