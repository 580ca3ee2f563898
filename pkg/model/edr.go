package model

// EDR data address properties.
const (
	KeyEDRID          = "id"
	KeyEndpointType   = "endpointType"
	KeyContractID     = "contractId"
	KeyTransferID     = "transferProcessId"
	AuthTypeBearer    = "bearer"
	EndpointTypeHTTPS = "https://w3id.org/idsa/v4.1/HTTP"
)

// NewEndpointDataReference builds the address a consumer uses to pull data
// through a provider's public API.
func NewEndpointDataReference(id, endpoint, token, contractID string) DataAddress {
	return DataAddress{
		KeyType:          TypeEDR,
		KeyEDRID:         id,
		KeyEndpoint:      endpoint,
		KeyEndpointType:  EndpointTypeHTTPS,
		KeyAuthorization: token,
		KeyAuthType:      AuthTypeBearer,
		KeyContractID:    contractID,
	}
}

// EDREntry is a cached endpoint data reference on the consumer side.
type EDREntry struct {
	TransferProcessID string      `json:"transferProcessId"`
	AssetID           string      `json:"assetId"`
	AgreementID       string      `json:"agreementId"`
	ProviderID        string      `json:"providerId"`
	DataAddress       DataAddress `json:"dataAddress"`
	CreatedAt         int64       `json:"createdAt"`
}
