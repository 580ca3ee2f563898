package model

// JSON-LD type names used in catalog documents.
const (
	TypeCatalog      = "dcat:Catalog"
	TypeDataset      = "dcat:Dataset"
	TypeDistribution = "dcat:Distribution"
	TypeDataService  = "dcat:DataService"
	ProtocolDSP      = "dataspace-protocol-http"
)

// Catalog is the set of datasets a provider offers to one participant.
type Catalog struct {
	ID            string         `json:"@id"`
	Type          string         `json:"@type"`
	ParticipantID string         `json:"dspace:participantId,omitempty"`
	Datasets      []Dataset      `json:"dcat:dataset"`
	DataServices  []DataService  `json:"dcat:service,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Dataset is one asset together with the offers available for it.
type Dataset struct {
	ID            string         `json:"@id"`
	Type          string         `json:"@type"`
	Offers        []Policy       `json:"odrl:hasPolicy"`
	Distributions []Distribution `json:"dcat:distribution,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Distribution names a transfer type through which a dataset can be obtained.
type Distribution struct {
	Type          string `json:"@type"`
	Format        string `json:"dct:format"`
	AccessService string `json:"dcat:accessService"`
}

// DataService is the connector endpoint that serves the datasets.
type DataService struct {
	ID          string `json:"@id"`
	Type        string `json:"@type"`
	EndpointURL string `json:"dcat:endpointURL,omitempty"`
}

// TargetNode is a connector the federated catalog crawls.
type TargetNode struct {
	Name               string   `json:"name"`
	ID                 string   `json:"id"`
	TargetURL          string   `json:"url"`
	SupportedProtocols []string `json:"supportedProtocols"`
}

// SupportsProtocol reports whether the node speaks protocol. Nodes that
// declare nothing are assumed to speak the dataspace protocol.
func (n TargetNode) SupportsProtocol(protocol string) bool {
	if len(n.SupportedProtocols) == 0 {
		return protocol == ProtocolDSP
	}
	for _, p := range n.SupportedProtocols {
		if p == protocol {
			return true
		}
	}
	return false
}
