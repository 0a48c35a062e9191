//go:build !unix

package contextcollector

func kernelRelease() string {
	return ""
}
