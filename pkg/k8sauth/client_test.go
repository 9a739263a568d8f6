package k8sauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestClientResolverResolvesKey(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "source-creds", Namespace: "ops"},
		Data:       map[string][]byte{"token": []byte("s3cr3t")},
	})

	r := &clientResolver{clientset: clientset, cfg: DefaultConfig()}
	val, err := r.Resolve(context.Background(), SecretRef{Namespace: "ops", Name: "source-creds", Key: "token"})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", val)
}

func TestClientResolverMissingKey(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "source-creds", Namespace: "ops"},
		Data:       map[string][]byte{"other": []byte("x")},
	})

	r := &clientResolver{clientset: clientset, cfg: DefaultConfig()}
	_, err := r.Resolve(context.Background(), SecretRef{Namespace: "ops", Name: "source-creds", Key: "token"})
	assert.Error(t, err)
}

func TestClientResolverMissingSecret(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	r := &clientResolver{clientset: clientset, cfg: Config{Timeout: time.Second, MaxRetries: 0, RetryBackoff: time.Millisecond}}
	_, err := r.Resolve(context.Background(), SecretRef{Namespace: "ops", Name: "missing", Key: "token"})
	assert.Error(t, err)
}
