package apicommon

// ApiBasePathV1 is the base path for version 1 of the API.
const ApiBasePathV1 = "api/v1"

// DeploymentsApiPath is the sub path for the deployment API.
const DeploymentsApiPath = "deployments"

// EnvironmentsApiPath is the sub path for the environment listing API.
const EnvironmentsApiPath = "environments"
