package common

import (
	"fmt"
	"regexp"
	"strings"
)

// Constellation defines the kind of satellites
type Constellation int

const (
	Unknown    Constellation = iota
	Sentinel1                // MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC.SAFE
	Sentinel2                // MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Discriminator>.SAFE or MMM_CCCC_FFFFDDDDDD_ssss_YYYYMMDDTHHMMSS_ROOO_VYYYYMMTDDHHMMSS_YYYYMMTDDHHMMSS.SAFE
	Sentinel3                // MMM_OL_L_TTTTTT_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_<instance>.SEN3
	Sentinel5P               // MMM_CCCC_TTTTTTTTTT_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOO_CC_PPPPPP_YYYYMMDDTHHMMSS.nc
	Landsat89                // LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX
)

var constellationNames = map[Constellation]string{
	Unknown:    "Unknown",
	Sentinel1:  "Sentinel1",
	Sentinel2:  "Sentinel2",
	Sentinel3:  "Sentinel3",
	Sentinel5P: "Sentinel5P",
	Landsat89:  "Landsat89",
}

func (c Constellation) String() string {
	if s, ok := constellationNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Constellation(%d)", int(c))
}

// Collection returns the name of the CDSE collection of the constellation ("" if unknown)
func (c Constellation) Collection() string {
	switch c {
	case Sentinel1:
		return "SENTINEL-1"
	case Sentinel2:
		return "SENTINEL-2"
	case Sentinel3:
		return "SENTINEL-3"
	case Sentinel5P:
		return "SENTINEL-5P"
	case Landsat89:
		return "LANDSAT-8-ESA"
	}
	return ""
}

var landsatRegexp = regexp.MustCompile("^L[OTC]0[89]")

// GetConstellationFromString returns the constellation from the user input
func GetConstellationFromString(input string) Constellation {
	switch strings.ToLower(input) {
	case "sentinel1", "sentinel-1":
		return Sentinel1
	case "sentinel2", "sentinel-2":
		return Sentinel2
	case "sentinel3", "sentinel-3":
		return Sentinel3
	case "sentinel5p", "sentinel-5p":
		return Sentinel5P
	case "landsat89", "landsat-8-esa":
		return Landsat89
	}
	return GetConstellationFromProductId(input)
}

func GetConstellationFromProductId(sceneName string) Constellation {
	switch {
	case strings.HasPrefix(sceneName, "S1"):
		return Sentinel1
	case strings.HasPrefix(sceneName, "S2"):
		return Sentinel2
	case strings.HasPrefix(sceneName, "S3"):
		return Sentinel3
	case strings.HasPrefix(sceneName, "S5P"):
		return Sentinel5P
	case landsatRegexp.MatchString(sceneName):
		return Landsat89
	}
	return Unknown
}

// CollectionFromProductName infers the CDSE collection from the name of a product
func CollectionFromProductName(name string) (string, error) {
	if c := GetConstellationFromProductId(name).Collection(); c != "" {
		return c, nil
	}
	return "", fmt.Errorf("cannot infer the collection of product %s", name)
}

func dateInfo(date, tim string) map[string]string {
	return map[string]string{
		"DATE":   date,
		"YEAR":   date[0:4],
		"MONTH":  date[4:6],
		"DAY":    date[6:8],
		"TIME":   tim,
		"HOUR":   tim[0:2],
		"MINUTE": tim[2:4],
		"SECOND": tim[4:6],
	}
}

func merge(maps ...map[string]string) map[string]string {
	res := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			res[k] = v
		}
	}
	return res
}

// Info parses the name of a product and returns its components (MISSION_ID, DATE, YEAR...)
func Info(sceneName string) (map[string]string, error) {
	switch GetConstellationFromProductId(sceneName) {
	case Sentinel1:
		if len(sceneName) < len("MMM_BB_TTTR_LFPP_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOOO_DDDDDD_CCCC") {
			return nil, fmt.Errorf("invalid Sentinel1 file name: %s", sceneName)
		}
		return merge(map[string]string{
			"SCENE":            sceneName,
			"MISSION_ID":       sceneName[0:3],
			"MISSION_VERSION":  sceneName[2:3],
			"MODE":             sceneName[4:6],
			"PRODUCT_TYPE":     sceneName[7:10],
			"RESOLUTION":       sceneName[10:11],
			"PROCESSING_LEVEL": sceneName[12:13],
			"PRODUCT_CLASS":    sceneName[13:14],
			"POLARISATION":     sceneName[14:16],
			"ORBIT":            sceneName[49:55],
			"MISSION":          sceneName[56:62],
			"UNIQUE_ID":        sceneName[63:67],
		}, dateInfo(sceneName[17:25], sceneName[26:32])), nil
	case Sentinel2:
		if len(sceneName) < len("MMM_MSIXXX_YYYYMMDDTHHMMSS_Nxxyy_ROOO_Txxxxx_<Product Disc.>") {
			return nil, fmt.Errorf("invalid Sentinel2 file name: %s", sceneName)
		}
		if sceneName[10] == '_' {
			return merge(map[string]string{
				"SCENE":           sceneName,
				"MISSION_ID":      sceneName[0:3],
				"MISSION_VERSION": sceneName[2:3],
				"PRODUCT_LEVEL":   sceneName[7:10],
				"PDGS":            sceneName[28:32],
				"ORBIT":           sceneName[34:37],
				"TILE":            sceneName[38:44],
				"LATITUDE_BAND":   sceneName[39:41],
				"GRID_SQUARE":     sceneName[41:42],
				"GRANULE_ID":      sceneName[42:44],
				"PRODUCT_DISC":    sceneName[45:60],
			}, dateInfo(sceneName[11:19], sceneName[20:26])), nil
		} else if len(sceneName) < len("MMM_CCCC_FFFFDDDDDD_ssss_YYYYMMDDTHHMMSS_ROOO_VYYYYMMTDDHHMMSS_YYYYMMTDDHHMMSS") {
			return nil, fmt.Errorf("invalid Sentinel2 file name: %s", sceneName)
		}
		return map[string]string{
			"SCENE":         sceneName,
			"MISSION_ID":    sceneName[0:3],
			"PRODUCT_LEVEL": sceneName[16:19],
			"ORBIT":         sceneName[42:45],
		}, nil
	case Sentinel3:
		// S3A_OL_1_EFR____20230607T094502_20230607T094802_20230608T142419_0179_099_350_1980_PS1_O_NT_003.SEN3
		if len(sceneName) < len("MMM_OL_L_TTTTTT_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS") {
			return nil, fmt.Errorf("invalid Sentinel3 file name: %s", sceneName)
		}
		return merge(map[string]string{
			"SCENE":            sceneName,
			"MISSION_ID":       sceneName[0:3],
			"INSTRUMENT":       sceneName[4:6],
			"PROCESSING_LEVEL": sceneName[7:8],
			"PRODUCT_TYPE":     strings.TrimRight(sceneName[9:15], "_"),
		}, dateInfo(sceneName[16:24], sceneName[25:31])), nil
	case Sentinel5P:
		// S5P_OFFL_L2__NO2____20230101T002658_20230101T020828_27037_03_020400_20230102T163433
		if len(sceneName) < len("MMM_CCCC_TTTTTTTTTT_YYYYMMDDTHHMMSS_YYYYMMDDTHHMMSS_OOOOO") {
			return nil, fmt.Errorf("invalid Sentinel5P file name: %s", sceneName)
		}
		return merge(map[string]string{
			"SCENE":         sceneName,
			"MISSION_ID":    sceneName[0:3],
			"STREAM":        sceneName[4:8],
			"PRODUCT_LEVEL": sceneName[9:11],
			"PRODUCT_TYPE":  strings.Trim(sceneName[11:19], "_"),
			"ORBIT":         sceneName[52:57],
		}, dateInfo(sceneName[20:28], sceneName[29:35])), nil
	case Landsat89:
		// LC09_L1GT_166003_20250603_20250603_02_T2
		if len(sceneName) < len("LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX") {
			return nil, fmt.Errorf("invalid Landsat8/9 file name: %s", sceneName)
		}
		collectionChar := sceneName[1:2]
		sensorCollection := "oli-tirs"
		if collectionChar == "O" {
			sensorCollection = "oli"
		} else if collectionChar == "T" {
			sensorCollection = "tirs"
		}

		return map[string]string{
			"SCENE":      sceneName,
			"MISSION_ID": sceneName[0:1] + sceneName[2:4],
			"DATE":       sceneName[17:25],
			"YEAR":       sceneName[17:21],
			"MONTH":      sceneName[21:23],
			"DAY":        sceneName[23:25],
			"COLLECTION": sensorCollection,
			"PATH":       sceneName[10:13],
			"ROW":        sceneName[13:16],
		}, nil
	}
	return nil, fmt.Errorf("Info: constellation not supported")
}

/**
 * FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * keys must be one of SCENE, MISSION_ID, PRODUCT_LEVEL, DATE(YEAR/MONTH/DAY), TIME(HOUR/MINUTE/SECOND), PDGS, ORBIT, TILE (LATITUDE_BAND/GRID_SQUARE/GRANULE_ID)
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
