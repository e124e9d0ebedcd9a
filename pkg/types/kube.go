package types

// KubeResource is a resolved (group, version, kind, plural, namespaced)
// record obtained from the Kubernetes discovery API on first use and cached
// for process lifetime (spec §3 "KubeResource").
type KubeResource struct {
	Group      string
	Version    string
	Kind       string
	Plural     string
	Namespaced bool
}

// ListQuery identifies a single Kubernetes list operation: the resource
// family plus the optional namespace/label/field scoping, used as the
// reflector identity. Point lookups are memoized by GetQuery instead.
type ListQuery struct {
	Resource      ContextAwareResource
	Namespace     string
	LabelSelector string
	FieldSelector string
}

// GetQuery identifies a single point GetResource lookup.
type GetQuery struct {
	Resource  ContextAwareResource
	Name      string
	Namespace string
}

// SubjectAccessReview is the input to a KubernetesCanI host call.
type SubjectAccessReview struct {
	User      string
	Groups    []string
	Namespace string
	Verb      string
	Group     string
	Resource  string
	Name      string
}

// SubjectAccessReviewStatus is the reply to a KubernetesCanI host call.
type SubjectAccessReviewStatus struct {
	Allowed bool
	Denied  bool
	Reason  string
}
