package common

// Provider name constants used for rate limiting, metrics labels and cache keys
const (
	// ProviderEsriWayback is the identifier for Esri World Imagery Wayback tiles
	ProviderEsriWayback = "esri_wayback"

	// ProviderXYZ is the identifier for arbitrary XYZ tile templates
	ProviderXYZ = "xyz"

	// ProviderSTAC is the identifier for STAC catalog previews
	ProviderSTAC = "stac"

	DisplayNameEsriWayback = "Esri Wayback"
	DisplayNameXYZ         = "XYZ tiles"
	DisplayNameSTAC        = "STAC catalog"
)

// DisplayName returns the human-readable name for a provider identifier
func DisplayName(provider string) string {
	switch provider {
	case ProviderEsriWayback:
		return DisplayNameEsriWayback
	case ProviderSTAC:
		return DisplayNameSTAC
	default:
		return DisplayNameXYZ
	}
}
