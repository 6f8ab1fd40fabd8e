package grep

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"

	"github.com/nao1215/webscan/internal/model"
	"github.com/nao1215/webscan/internal/plugin"
	"github.com/nao1215/webscan/internal/transport"
)

// EXIFName is the registry name of the EXIF plugin.
const EXIFName = "exif"

// exifImagePath matches file names of formats that carry EXIF data.
var exifImagePath = regexp.MustCompile(`(?i)\.(jpe?g|tiff?|heic)$`)

// dataURLPattern matches inline base64 images in HTML.
var dataURLPattern = regexp.MustCompile(`data:image/(?:jpeg|jpg|tiff|heic);base64,([A-Za-z0-9+/=_\-]+)`)

// EXIF reports metadata embedded in images: GPS positions, device serial
// numbers, camera models, authors and editing software.
//
// The spider fetches images referenced by crawled pages, so every image of
// the target passes through Grep without the plugin requesting it.
type EXIF struct{}

// NewEXIF is the plugin factory.
func NewEXIF() plugin.Plugin {
	return &EXIF{}
}

func (p *EXIF) Name() string              { return EXIFName }
func (p *EXIF) Category() plugin.Category { return plugin.CategoryGrep }
func (p *EXIF) Description() string {
	return "Extracts GPS, device, author and software metadata from JPEG, TIFF and HEIC images."
}

// Grep implements plugin.Grepper.
func (p *EXIF) Grep(_ context.Context, env *plugin.Env, resp *transport.Response) error {
	var findings []model.Finding
	switch {
	case isEXIFImage(resp):
		findings = analyzeImageData(resp.Body, resp.URL.String())
	case strings.Contains(resp.ContentType(), "html"):
		for _, m := range dataURLPattern.FindAllSubmatch(resp.Body, -1) {
			findings = append(findings, analyzeDataURL(string(m[1]), resp.URL.String())...)
		}
	}

	for _, f := range findings {
		f.ResponseIDs = []int64{resp.ID}
		env.Report(p, f)
	}
	return nil
}

func isEXIFImage(resp *transport.Response) bool {
	ct := strings.ToLower(resp.ContentType())
	switch {
	case strings.HasPrefix(ct, "image/jpeg"), strings.HasPrefix(ct, "image/tiff"), strings.HasPrefix(ct, "image/heic"):
		return true
	case strings.HasPrefix(ct, "image/"):
		return false
	}
	return exifImagePath.MatchString(resp.URL.Path)
}

// analyzeDataURL decodes the base64 payload of an inline image.
func analyzeDataURL(payload, pageURL string) []model.Finding {
	imageData, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		imageData, err = base64.URLEncoding.DecodeString(payload)
		if err != nil {
			return nil
		}
	}
	return analyzeImageData(imageData, pageURL)
}

// analyzeImageData extracts EXIF tags from image bytes. Images without
// EXIF data yield no findings.
func analyzeImageData(imageData []byte, location string) []model.Finding {
	rawExif, err := exif.SearchAndExtractExif(imageData)
	if err != nil || rawExif == nil {
		return nil
	}

	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return nil
	}

	var findings []model.Finding
	for _, entry := range entries {
		f, ok := classifyTag(entry.TagName, entry.Formatted)
		if !ok {
			continue
		}
		f.URL = location
		findings = append(findings, f)
	}
	return findings
}

// classifyTag turns an EXIF tag into a finding when the tag discloses
// something about the author or device.
func classifyTag(tagName, value string) (model.Finding, bool) {
	var findingType, name string
	switch tagName {
	case "GPSLatitude", "GPSLongitude", "GPSLatitudeRef", "GPSLongitudeRef":
		findingType, name = "exif_gps", "GPS coordinates in image EXIF"
	case "Make", "Model":
		findingType, name = "exif_camera", "Camera information in image EXIF"
	case "SerialNumber", "CameraSerialNumber", "BodySerialNumber", "LensSerialNumber":
		findingType, name = "exif_serial", "Device serial number in image EXIF"
	case "Software", "ProcessingSoftware":
		findingType, name = "exif_software", "Software information in image EXIF"
	case "Artist", "Author", "Copyright", "XPAuthor":
		findingType, name = "exif_author", "Author information in image EXIF"
	case "DateTimeOriginal", "DateTimeDigitized", "DateTime":
		findingType, name = "exif_datetime", "Timestamp in image EXIF"
	case "HostComputer":
		findingType, name = "exif_computer", "Host computer in image EXIF"
	default:
		return model.Finding{}, false
	}

	f := model.NewFinding(model.KindInfo, findingType, name, model.GetFindingInfo(findingType).Impact)
	f.Evidence = tagName + ": " + value
	return f, true
}
