package client

import "fmt"

// URLBuilder constructs URLs for a node in the registry.
type URLBuilder interface {
	Registry(nodeID, version string) string
	API(nodeID, version string) string
	Install(nodeID, version string) string
	PURL(nodeID, version string) string
}

// BaseURLs provides a default URLBuilder implementation.
type BaseURLs struct {
	RegistryFn func(nodeID, version string) string
	APIFn      func(nodeID, version string) string
	InstallFn  func(nodeID, version string) string
	PURLFn     func(nodeID, version string) string
}

func (b *BaseURLs) Registry(nodeID, version string) string {
	if b.RegistryFn != nil {
		return b.RegistryFn(nodeID, version)
	}
	return ""
}

func (b *BaseURLs) API(nodeID, version string) string {
	if b.APIFn != nil {
		return b.APIFn(nodeID, version)
	}
	return ""
}

func (b *BaseURLs) Install(nodeID, version string) string {
	if b.InstallFn != nil {
		return b.InstallFn(nodeID, version)
	}
	return ""
}

func (b *BaseURLs) PURL(nodeID, version string) string {
	if b.PURLFn != nil {
		return b.PURLFn(nodeID, version)
	}
	if version != "" {
		return fmt.Sprintf("pkg:comfy/%s@%s", nodeID, version)
	}
	return fmt.Sprintf("pkg:comfy/%s", nodeID)
}

// BuildURLs returns a map of all non-empty URLs for a node.
// Keys are "registry", "api", "install", and "purl".
func BuildURLs(urls URLBuilder, nodeID, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Registry(nodeID, version); v != "" {
		result["registry"] = v
	}
	if v := urls.API(nodeID, version); v != "" {
		result["api"] = v
	}
	if v := urls.Install(nodeID, version); v != "" {
		result["install"] = v
	}
	if v := urls.PURL(nodeID, version); v != "" {
		result["purl"] = v
	}
	return result
}
