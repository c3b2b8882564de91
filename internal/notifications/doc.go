// Package notifications delivers operator notifications over ntfy.
package notifications
