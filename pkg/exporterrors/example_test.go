// Package exporterrors provides examples of structured error handling in
// batchexport.
package exporterrors_test

import (
	"errors"
	"fmt"
	"io"

	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := exporterrors.New(exporterrors.ErrorTypeConfig, "unsupported compression algorithm")

	// Add context details
	err = err.WithDetail("algorithm", "deflate").
		WithDetail("format", "jsonlines")

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// config: unsupported compression algorithm
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.ErrShortWrite

	// Wrap the error with context
	err := exporterrors.Wrap(originalErr, exporterrors.ErrorTypeTransfer, "failed to write shared region").
		WithDetail("region", "batchexport-1234-7")

	// Check the error type
	if exporterrors.IsType(err, exporterrors.ErrorTypeTransfer) {
		fmt.Println("This is a transfer error")
	}

	// Access the original error using Go's standard errors.Is
	if errors.Is(err, io.ErrShortWrite) {
		fmt.Println("Original error was a short write")
	}

	// Output:
	// This is a transfer error
	// Original error was a short write
}

// ExampleIsFatal demonstrates the propagation policy: encoding errors are
// recovered in place, everything else aborts the export.
func ExampleIsFatal() {
	encErr := exporterrors.New(exporterrors.ErrorTypeEncoding, "invalid surrogate pair")
	fmt.Println(exporterrors.IsFatal(encErr))

	transferErr := exporterrors.New(exporterrors.ErrorTypeTransfer, "region vanished")
	fmt.Println(exporterrors.IsFatal(transferErr))

	// Output:
	// false
	// true
}
