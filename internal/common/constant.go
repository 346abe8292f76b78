package common

// ComplianceHeaderName marks every outbound portal request with the legal
// basis for processing health data locally cached on the device.
const ComplianceHeaderName = "X-Health-Data-Compliance"

// ComplianceHeaderValue cites the Angolan patient-data regulation the
// 30-day local retention ceiling derives from.
const ComplianceHeaderValue = "lei-22-11-protecao-dados"

// EncryptedPayloadHeaderName tells the document API the uploaded blob was
// encrypted on the client and must be stored as-is.
const EncryptedPayloadHeaderName = "X-Client-Encrypted"
