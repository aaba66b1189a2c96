package redis

// Key layout, all under "gateway:":
//
//	gateway:schema         string, layout version
//	gateway:wf:{id}        hash, one record
//	gateway:wf_ids         sorted set of ids scored by created_at
//	gateway:state:{state}  set of ids currently in state
const keyPrefix = "gateway:"

const (
	schemaKey      = keyPrefix + "schema"
	workflowIDsKey = keyPrefix + "wf_ids"
)

func workflowKey(id string) string { return keyPrefix + "wf:" + id }

func stateKey(state string) string { return keyPrefix + "state:" + state }
