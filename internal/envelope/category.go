package envelope

// Category classifies an uploaded patient document. Each category carries
// its own MIME allow-list and server-side retention window.
type Category string

const (
	CategoryMedicalRecord Category = "medical_record"
	CategoryExamResult    Category = "exam_result"
	CategoryPrescription  Category = "prescription"
	CategoryIdentity      Category = "identity"
	CategoryInsurance     Category = "insurance"
	CategoryConsent       Category = "consent"
)

// allowedMIMETypes lists the accepted content types per category. All
// categories accept PDF/JPEG/PNG; some add category-specific formats
// (DICOM for exam results, plain text for prescriptions and consents).
var allowedMIMETypes = map[Category][]string{
	CategoryMedicalRecord: {"application/pdf", "image/jpeg", "image/png"},
	CategoryExamResult:    {"application/pdf", "image/jpeg", "image/png", "application/dicom"},
	CategoryPrescription:  {"application/pdf", "image/jpeg", "image/png", "text/plain"},
	CategoryIdentity:      {"application/pdf", "image/jpeg", "image/png"},
	CategoryInsurance:     {"application/pdf", "image/jpeg", "image/png"},
	CategoryConsent:       {"application/pdf", "image/jpeg", "image/png", "text/plain"},
}

// retentionDefaults holds the server-side legal retention window per
// category. These never apply to the device cache, which is capped at 30
// days regardless of category.
var retentionDefaults = map[Category]RetentionPolicy{
	CategoryMedicalRecord: {Days: 3650, AutoDelete: false, LegalBasis: "registo clínico: 10 anos"},
	CategoryExamResult:    {Days: 1825, AutoDelete: true, LegalBasis: "resultados de exames: 5 anos"},
	CategoryPrescription:  {Days: 730, AutoDelete: true, LegalBasis: "receitas: 2 anos"},
	CategoryIdentity:      {Days: 365, AutoDelete: true, LegalBasis: "documentos de identidade: 1 ano"},
	CategoryInsurance:     {Days: 1095, AutoDelete: true, LegalBasis: "seguros: 3 anos"},
	CategoryConsent:       {Days: 3650, AutoDelete: false, LegalBasis: "consentimentos: 10 anos"},
}

// Valid reports whether c is one of the six known categories.
func (c Category) Valid() bool {
	_, ok := allowedMIMETypes[c]
	return ok
}

// Allows reports whether the given MIME type is accepted for the category.
func (c Category) Allows(mimeType string) bool {
	for _, m := range allowedMIMETypes[c] {
		if m == mimeType {
			return true
		}
	}
	return false
}

// Retention returns the default server-side retention policy for the
// category.
func (c Category) Retention() RetentionPolicy {
	return retentionDefaults[c]
}
