package models

// DeviceIdentity is assigned by the cloud in registerDevice.
type DeviceIdentity struct {
	CompanyID  string `json:"companyID"`
	BranchID   string `json:"branchID"`
	DeviceCode string `json:"deviceCode"`
}

func (d DeviceIdentity) Complete() bool {
	return d.CompanyID != "" && d.BranchID != "" && d.DeviceCode != ""
}
