package common

// Names of the OData attributes commonly used as search criteria
const (
	TagCloudCover          = "cloudCover"
	TagProductType         = "productType"
	TagOrbitDirection      = "orbitDirection"
	TagRelativeOrbit       = "relativeOrbitNumber"
	TagOrbit               = "orbitNumber"
	TagPolarisationChannel = "polarisationChannels"
	TagOperationalMode     = "operationalMode"
	TagTileID              = "tileId"
	TagPlatform            = "platformSerialIdentifier"
	TagInstrument          = "instrumentShortName"
	TagProcessingLevel     = "processingLevel"
	TagProcessingBaseline  = "processingBaseline"
	TagTimeliness          = "timeliness"
)
