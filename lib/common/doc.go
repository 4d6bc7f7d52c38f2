// Package common holds the configuration and logging setup shared by the storekit
// commands and libraries.
package common
